// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import (
	"errors"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// clientMetrics holds the counters of every client in the process.
var clientMetrics = metrics.NewSet()

var (
	connectsTotal   = clientMetrics.NewCounter("modbus_client_connects_total")
	requestsTotal   = clientMetrics.NewCounter("modbus_client_requests_total")
	errorsTotal     = clientMetrics.NewCounter("modbus_client_errors_total")
	exceptionsTotal = clientMetrics.NewCounter("modbus_client_exceptions_total")
	timeoutsTotal   = clientMetrics.NewCounter("modbus_client_timeouts_total")
	requestDuration = clientMetrics.NewHistogram("modbus_client_request_duration_seconds")
)

// WriteMetrics writes the client metrics in Prometheus text format.
func WriteMetrics(w io.Writer) {
	clientMetrics.WritePrometheus(w)
}

// observeCall records the outcome of one exchange.
func observeCall(start time.Time, err error) {
	requestsTotal.Inc()
	requestDuration.Update(time.Since(start).Seconds())
	if err == nil {
		return
	}
	errorsTotal.Inc()
	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		exceptionsTotal.Inc()
	}
	if IsTimeout(err) {
		timeoutsTotal.Inc()
	}
}

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
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// StringToLevel maps the accepted level names to zerolog levels.
var StringToLevel = map[string]zerolog.Level{
	"TRACE":   zerolog.TraceLevel,
	"DEBUG":   zerolog.DebugLevel,
	"INFO":    zerolog.InfoLevel,
	"WARN":    zerolog.WarnLevel,
	"WARNING": zerolog.WarnLevel,
	"ERROR":   zerolog.ErrorLevel,
	"NONE":    zerolog.Disabled,
}

// ParseLevel parses a level name such as "debug" or "WARNING".
func ParseLevel(levelStr string) (zerolog.Level, error) {
	if level, ok := StringToLevel[strings.ToUpper(strings.TrimSpace(levelStr))]; ok {
		return level, nil
	}
	return zerolog.NoLevel, fmt.Errorf("invalid log level: %s", levelStr)
}

// NewLogger returns a console logger writing to output (os.Stdout when nil)
// tagged with the given component name.
func NewLogger(output io.Writer, levelStr string, component string) (zerolog.Logger, error) {
	level, err := ParseLevel(levelStr)
	if err != nil {
		return zerolog.Nop(), err
	}
	if output == nil {
		output = os.Stdout
	}
	console := zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
		NoColor:    output != os.Stdout,
	}
	return zerolog.New(console).Level(level).With().Timestamp().Str("component", component).Logger(), nil
}

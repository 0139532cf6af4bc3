package modbus

import "testing"

func TestSlaveClassification(t *testing.T) {
	testCases := []struct {
		slave     Slave
		kind      SlaveKind
		broadcast bool
		single    bool
		reserved  bool
	}{
		{Broadcast(), SlaveBroadcast, true, false, false},
		{NewSlave(1), SlaveUnit, false, true, false},
		{NewSlave(247), SlaveUnit, false, true, false},
		{NewSlave(248), SlaveCustom, false, false, true},
		{TCPDevice(), SlaveCustom, false, false, true},
	}
	for _, tc := range testCases {
		if got := tc.slave.Kind(); got != tc.kind {
			t.Errorf("%v: Kind() = %v, want %v", tc.slave, got, tc.kind)
		}
		if got := tc.slave.IsBroadcast(); got != tc.broadcast {
			t.Errorf("%v: IsBroadcast() = %v", tc.slave, got)
		}
		if got := tc.slave.IsSingleDevice(); got != tc.single {
			t.Errorf("%v: IsSingleDevice() = %v", tc.slave, got)
		}
		if got := tc.slave.IsReserved(); got != tc.reserved {
			t.Errorf("%v: IsReserved() = %v", tc.slave, got)
		}
	}
}

func TestSlaveString(t *testing.T) {
	if got, want := TCPDevice().String(), "255 (0xFF, custom)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := NewSlave(17).String(), "17 (0x11, unit)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if TCPDevice().ID() != 0xFF || Broadcast().ID() != 0 {
		t.Error("unexpected raw identifiers")
	}
}

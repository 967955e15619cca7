package clock

import (
	"errors"
	"testing"
	"time"
)

func fixedChain(rtc RTC, sys time.Time, up time.Duration) *Chain {
	return &Chain{
		RTC:       rtc,
		System:    func() time.Time { return sys },
		SetSystem: func(time.Time) error { return nil },
		Uptime:    func() time.Duration { return up },
		Location:  time.UTC,
	}
}

func TestChainFallback(t *testing.T) {
	rtcTime := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	sysTime := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		rtc    *FakeRTC
		sys    time.Time
		want   time.Time
		origin Origin
	}{
		{"rtc ok", &FakeRTC{T: rtcTime, OK: true}, sysTime, rtcTime, OriginRTC},
		{"rtc fails, system set", &FakeRTC{}, sysTime, sysTime, OriginSystem},
		{
			"rtc fails, system unset",
			&FakeRTC{},
			time.Date(1970, 1, 1, 0, 5, 0, 0, time.UTC),
			time.Date(1970, 1, 1, 2, 0, 0, 0, time.UTC),
			OriginUptime,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fixedChain(tt.rtc, tt.sys, 2*time.Hour)
			got, origin := c.Now()
			if !got.Equal(tt.want) {
				t.Errorf("Now() = %v, want %v", got, tt.want)
			}
			if origin != tt.origin {
				t.Errorf("origin = %v, want %v", origin, tt.origin)
			}
		})
	}
}

func TestChainNilRTC(t *testing.T) {
	sys := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c := fixedChain(nil, sys, 0)
	if got := c.Time(); !got.Equal(sys) {
		t.Errorf("Time() = %v, want %v", got, sys)
	}
}

func TestChainSet(t *testing.T) {
	rtc := &FakeRTC{}
	var sysSet []time.Time
	c := fixedChain(rtc, time.Time{}, 0)
	c.SetSystem = func(t time.Time) error {
		sysSet = append(sysSet, t)
		return errors.New("not permitted")
	}

	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if err := c.Set(want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(rtc.Writes) != 1 || !rtc.Writes[0].Equal(want) {
		t.Errorf("rtc writes = %v", rtc.Writes)
	}
	if len(sysSet) != 1 {
		t.Errorf("system clock set %d times, want 1", len(sysSet))
	}
	if got, origin := c.Now(); origin != OriginRTC || !got.Equal(want) {
		t.Errorf("Now() = %v/%v after Set", got, origin)
	}
}

func TestChainSetRTCFailure(t *testing.T) {
	c := fixedChain(&FakeRTC{FailWrite: true}, time.Time{}, 0)
	if err := c.Set(time.Now()); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Set: got %v, want ErrWriteFailed", err)
	}
}

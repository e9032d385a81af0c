package config

import (
	"fmt"
	"strconv"
	"time"
)

// Seconds is a positive duration that also accepts a bare number of seconds,
// so "5", "0.5" and "5s" all parse. It works as a flag.Value and as an env value.
type Seconds time.Duration

func (d Seconds) Duration() time.Duration { return time.Duration(d) }

func (d Seconds) String() string { return time.Duration(d).String() }

func (d *Seconds) Set(v string) error {
	var dur time.Duration
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		dur = time.Duration(n * float64(time.Second))
	} else if dur, err = time.ParseDuration(v); err != nil {
		return fmt.Errorf("invalid duration %q: want seconds or a value like 1m30s", v)
	}
	if dur <= 0 {
		return fmt.Errorf("duration %q must be positive", v)
	}
	*d = Seconds(dur)
	return nil
}

func (d *Seconds) UnmarshalText(b []byte) error { return d.Set(string(b)) }

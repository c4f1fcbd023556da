package extract

import (
	"strings"
	"testing"
	"time"
)

func FuzzUnwrapJSONP(f *testing.F) {
	f.Add(`cb({"a":"(x)"})`, "cb")
	f.Add(`cb(cb(cb(`, "cb")
	f.Add(`/**/cb ({"t":"\")"});`, "cb")
	f.Add(`cb({"a":[1,2,{"b":")"}]}`, "cb")

	f.Fuzz(func(t *testing.T, body, callback string) {
		payload, err := UnwrapJSONP(body, callback)
		if err != nil {
			return
		}
		if !strings.Contains(body, payload) {
			t.Fatalf("payload %q is not part of body %q", payload, body)
		}
	})
}

func FuzzNormalizeDate(f *testing.F) {
	f.Add("3시간 전")
	f.Add("2024. 3. 5. 14:22")
	f.Add("9999999999999999999일 전")
	f.Add("2024.02.30")

	now := time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)
	f.Fuzz(func(t *testing.T, raw string) {
		date, ok := NormalizeDate(raw, now)
		// huge relative offsets leave the four digit years
		if !ok || date.Year < 1 || date.Year > 9999 {
			return
		}
		again, ok := NormalizeAbsoluteDate(date.String())
		if !ok || again != date {
			t.Fatalf("%q normalized to %s which does not round trip", raw, date)
		}
	})
}

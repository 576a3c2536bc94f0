package ical

import (
	"strconv"
	"strings"
)

// ParseRRule parses an RFC 5545 §3.3.10 RRULE value ("FREQ=DAILY;COUNT=3"),
// per spec §4.2: unrecognized or out-of-range by-parts are dropped with a
// diagnostic rather than failing the whole rule.
func ParseRRule(value string) (*RRule, []Diagnostic) {
	var diags []Diagnostic
	rr := &RRule{Interval: 1}

	for _, token := range strings.Split(value, ";") {
		if token == "" {
			continue
		}
		kv := strings.SplitN(token, "=", 2)
		if len(kv) != 2 {
			diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "malformed RRULE token " + token})
			continue
		}
		key, val := strings.ToUpper(kv[0]), kv[1]

		switch key {
		case "FREQ":
			f, ok := ParseFrequency(val)
			if !ok {
				diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "unrecognized FREQ " + val})
				continue
			}
			rr.Freq = f
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "invalid INTERVAL " + val})
				continue
			}
			rr.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "invalid COUNT " + val})
				continue
			}
			rr.SetCount(n)
		case "UNTIL":
			dt, err := ParseDateTime(val, nil, nil)
			if err != nil {
				diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "invalid UNTIL " + val})
				continue
			}
			rr.SetUntil(dt)
		case "BYSECOND":
			rr.BySecond = parseIntList(val, 0, 60, &diags, key)
		case "BYMINUTE":
			rr.ByMinute = parseIntList(val, 0, 59, &diags, key)
		case "BYHOUR":
			rr.ByHour = parseIntList(val, 0, 23, &diags, key)
		case "BYMONTHDAY":
			rr.ByMonthDay = parseIntList(val, -31, 31, &diags, key)
		case "BYYEARDAY":
			rr.ByYearDay = parseIntList(val, -366, 366, &diags, key)
		case "BYWEEKNO":
			rr.ByWeekNo = parseIntList(val, -53, 53, &diags, key)
		case "BYMONTH":
			rr.ByMonth = parseIntList(val, 1, 12, &diags, key)
		case "BYSETPOS":
			rr.BySetPos = parseIntList(val, -366, 366, &diags, key)
		case "WKST":
			wd, ok := ParseWeekday(val)
			if !ok {
				diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "invalid WKST " + val})
				continue
			}
			rr.WKST = wd
		case "BYDAY":
			for _, tok := range strings.Split(val, ",") {
				bd, ok := parseByDay(tok)
				if !ok {
					diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "invalid BYDAY " + tok})
					continue
				}
				rr.ByDay = append(rr.ByDay, bd)
			}
		default:
			diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "unrecognized RRULE part " + key})
		}
	}

	return rr, diags
}

func parseIntList(val string, lo, hi int, diags *[]Diagnostic, part string) []int {
	var out []int
	for _, tok := range strings.Split(val, ",") {
		n, err := strconv.Atoi(tok)
		if err != nil || n < lo || n > hi || n == 0 && lo < 0 {
			*diags = append(*diags, Diagnostic{Kind: DiagPropertyMalformed, Message: part + " value out of range: " + tok})
			continue
		}
		out = append(out, n)
	}
	return out
}

func parseByDay(tok string) (ByDay, bool) {
	i := 0
	n := len(tok)
	if i < n && (tok[i] == '+' || tok[i] == '-') {
		i++
	}
	for i < n && tok[i] >= '0' && tok[i] <= '9' {
		i++
	}
	ordPart := tok[:i]
	dayPart := tok[i:]

	wd, ok := ParseWeekday(dayPart)
	if !ok {
		return ByDay{}, false
	}

	ord := 0
	if ordPart != "" {
		n, err := strconv.Atoi(ordPart)
		if err != nil {
			return ByDay{}, false
		}
		ord = n
	}
	return ByDay{Ordinal: ord, Day: wd}, true
}

// FormatRRule renders rr as an RFC 5545 RRULE value.
func FormatRRule(rr *RRule) string {
	var parts []string
	parts = append(parts, "FREQ="+rr.Freq.String())
	if rr.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(rr.Interval))
	}
	if rr.HasCount() {
		parts = append(parts, "COUNT="+strconv.Itoa(rr.Count))
	} else if rr.HasUntil() {
		v, _ := rr.Until.Encode()
		parts = append(parts, "UNTIL="+v)
	}
	if len(rr.ByMonth) > 0 {
		parts = append(parts, "BYMONTH="+joinInts(rr.ByMonth))
	}
	if len(rr.ByWeekNo) > 0 {
		parts = append(parts, "BYWEEKNO="+joinInts(rr.ByWeekNo))
	}
	if len(rr.ByYearDay) > 0 {
		parts = append(parts, "BYYEARDAY="+joinInts(rr.ByYearDay))
	}
	if len(rr.ByMonthDay) > 0 {
		parts = append(parts, "BYMONTHDAY="+joinInts(rr.ByMonthDay))
	}
	if len(rr.ByDay) > 0 {
		var toks []string
		for _, bd := range rr.ByDay {
			if bd.Ordinal != 0 {
				toks = append(toks, strconv.Itoa(bd.Ordinal)+bd.Day.String())
			} else {
				toks = append(toks, bd.Day.String())
			}
		}
		parts = append(parts, "BYDAY="+strings.Join(toks, ","))
	}
	if len(rr.ByHour) > 0 {
		parts = append(parts, "BYHOUR="+joinInts(rr.ByHour))
	}
	if len(rr.ByMinute) > 0 {
		parts = append(parts, "BYMINUTE="+joinInts(rr.ByMinute))
	}
	if len(rr.BySecond) > 0 {
		parts = append(parts, "BYSECOND="+joinInts(rr.BySecond))
	}
	if len(rr.BySetPos) > 0 {
		parts = append(parts, "BYSETPOS="+joinInts(rr.BySetPos))
	}
	if rr.WKST != Monday {
		parts = append(parts, "WKST="+rr.WKST.String())
	}
	return strings.Join(parts, ";")
}

func joinInts(vs []int) string {
	toks := make([]string, len(vs))
	for i, v := range vs {
		toks[i] = strconv.Itoa(v)
	}
	return strings.Join(toks, ",")
}

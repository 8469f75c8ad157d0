package maslow

import (
	"errors"
	"strconv"
	"strings"

	"github.com/mastercactapus/maslowctl/coord"
)

type lineKind int

const (
	lineOther lineKind = iota
	lineOK
	lineError
	lineAlarm
	lineStatus
)

// controllerLine is one classified line from the controller's serial output.
type controllerLine struct {
	kind lineKind
	code int

	status   string
	position coord.Point
	feed     float64
	spindle  float64
}

func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) < 3 {
		return p, errors.New("invalid number of elements")
	}
	p.X, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return p, err
	}
	p.Y, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return p, err
	}
	p.Z, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return p, err
	}
	return p, nil
}

func parseCode(data, prefix string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(data, prefix)))
}

// parseLine classifies a serial response. Lines that are not recognized are
// returned as lineOther without error.
func parseLine(data string) (controllerLine, error) {
	data = strings.TrimSpace(data)
	var l controllerLine
	var err error
	switch {
	case data == "ok":
		l.kind = lineOK
	case strings.HasPrefix(data, "error:"):
		l.kind = lineError
		l.code, err = parseCode(data, "error:")
	case strings.HasPrefix(data, "ALARM:"):
		l.kind = lineAlarm
		l.code, err = parseCode(data, "ALARM:")
	case strings.HasPrefix(data, "<") && strings.HasSuffix(data, ">"):
		l.kind = lineStatus
		err = parseStatus(&l, data)
	}
	if err != nil {
		return controllerLine{}, err
	}
	return l, nil
}

func parseStatus(l *controllerLine, data string) error {
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")
	parts := strings.Split(data, "|")
	l.status = parts[0]
	var err error
	for _, s := range parts[1:] {
		sParts := strings.SplitN(s, ":", 2)
		if len(sParts) != 2 {
			continue
		}
		switch sParts[0] {
		case "MPos", "WPos":
			l.position, err = parseCoords(sParts[1])
		case "FS":
			fs := strings.Split(sParts[1], ",")
			l.feed, err = strconv.ParseFloat(fs[0], 64)
			if err == nil && len(fs) > 1 {
				l.spindle, err = strconv.ParseFloat(fs[1], 64)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

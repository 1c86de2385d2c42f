package elements

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTLE is returned for element lines that fail format or checksum
// validation.
var ErrInvalidTLE = errors.New("invalid TLE")

const tleLineLength = 69

// ValidateLines checks both lines of a two-line element set: length, line
// numbers, checksums and a matching catalog number.
func ValidateLines(line1, line2 string) error {
	line1 = strings.TrimRight(line1, " \r\n")
	line2 = strings.TrimRight(line2, " \r\n")

	for i, line := range []string{line1, line2} {
		n := i + 1
		if len(line) != tleLineLength {
			return fmt.Errorf("%w: line %d has length %d, want %d", ErrInvalidTLE, n, len(line), tleLineLength)
		}
		if line[0] != byte('0'+n) {
			return fmt.Errorf("%w: line %d starts with %q", ErrInvalidTLE, n, line[0])
		}
		want, err := strconv.Atoi(line[68:69])
		if err != nil {
			return fmt.Errorf("%w: line %d checksum digit %q", ErrInvalidTLE, n, line[68:69])
		}
		if got := Checksum(line); got != want {
			return fmt.Errorf("%w: line %d checksum %d, want %d", ErrInvalidTLE, n, got, want)
		}
	}
	if strings.TrimSpace(line1[2:7]) != strings.TrimSpace(line2[2:7]) {
		return fmt.Errorf("%w: catalog numbers differ (%s vs %s)", ErrInvalidTLE, line1[2:7], line2[2:7])
	}
	return nil
}

// Checksum computes the modulo-10 checksum over the first 68 characters of a
// TLE line: digits count their value and minus signs count one.
func Checksum(line string) int {
	sum := 0
	for i := 0; i < len(line) && i < tleLineLength-1; i++ {
		c := line[i]
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// NoradID extracts the catalog number from line 1.
func NoradID(line1 string) (int, error) {
	if len(line1) < 7 {
		return 0, fmt.Errorf("%w: line 1 too short", ErrInvalidTLE)
	}
	id, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return 0, fmt.Errorf("%w: catalog number: %v", ErrInvalidTLE, err)
	}
	return id, nil
}

// Epoch parses the element set epoch (columns 19-32 of line 1) into UTC.
// Two-digit years below 57 are in the 2000s.
func Epoch(line1 string) (time.Time, error) {
	if len(line1) < 32 {
		return time.Time{}, fmt.Errorf("%w: line 1 too short for epoch", ErrInvalidTLE)
	}
	field := strings.TrimSpace(line1[18:32])
	if len(field) < 3 {
		return time.Time{}, fmt.Errorf("%w: epoch %q", ErrInvalidTLE, field)
	}
	yy, err := strconv.Atoi(field[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: epoch year %q", ErrInvalidTLE, field[:2])
	}
	days, err := strconv.ParseFloat(field[2:], 64)
	if err != nil || days < 1 || days >= 367 {
		return time.Time{}, fmt.Errorf("%w: epoch day %q", ErrInvalidTLE, field[2:])
	}

	year := 1900 + yy
	if yy < 57 {
		year = 2000 + yy
	}
	whole, frac := math.Modf(days)
	base := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(whole)-1)
	offset := time.Duration(math.Round(frac * float64(24*time.Hour/time.Microsecond)))
	return base.Add(offset * time.Microsecond), nil
}

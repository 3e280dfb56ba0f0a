package compile

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Compile patterns once at package initialization.
var (
	// Traceback frame: File "path", line 12
	framePattern = regexp.MustCompile(`^\s*File "([^"]*)", line (\d+)`)

	// Final exception line: SyntaxError: invalid syntax
	errorPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*(?:Error|Exception)): (.*)$`)
)

// ParseDiagnostic extracts the last reported line number and exception message
// from interpreter stderr. Fields that cannot be found are left zero.
func ParseDiagnostic(r io.Reader) *CompileError {
	cerr := &CompileError{}
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if matches := framePattern.FindStringSubmatch(line); matches != nil {
			if n, err := strconv.Atoi(matches[2]); err == nil {
				cerr.Line = n
			}
			continue
		}

		if matches := errorPattern.FindStringSubmatch(line); matches != nil {
			cerr.Msg = matches[1] + ": " + strings.TrimSpace(matches[2])
		}
	}

	return cerr
}

package ai

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// errStopStream lets an onEvent callback end parsing without an error.
var errStopStream = errors.New("stop stream")

// streamSSE parses a text/event-stream body and calls onEvent once per
// complete event.
func streamSSE(r io.Reader, onEvent func(event string, data string) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		ev := eventName
		dataLines = nil
		eventName = ""
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if ferr := flush(); ferr != nil {
				return stopped(ferr)
			}
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if eof {
			return stopped(flush())
		}
	}
}

func stopped(err error) error {
	if errors.Is(err, errStopStream) {
		return nil
	}
	return err
}

package main

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

const dialTimeout = 5 * time.Second

// sendCommand dials the control socket, writes line followed by a newline,
// and reads back the single text response (spec.md §6: "one request per
// connection; response is text"). A response beginning with "error: " is
// surfaced as a Go error so callers don't need to inspect response text.
func sendCommand(line string) (string, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, line); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}

	var lines []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	response := strings.Join(lines, "\n")
	if strings.HasPrefix(response, "error: ") {
		return "", fmt.Errorf("%s", strings.TrimPrefix(response, "error: "))
	}
	return response, nil
}

// run sends line, prints the response, and translates a transport or
// daemon-side error into cobra's error-return convention.
func run(line string) error {
	response, err := sendCommand(line)
	if err != nil {
		return err
	}
	fmt.Println(response)
	return nil
}

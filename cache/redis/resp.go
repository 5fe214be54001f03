package redis

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ServerError is an error reply ("-ERR ...") sent by the server. The
// connection stays usable after one.
type ServerError string

func (e ServerError) Error() string { return "redis: " + string(e) }

var errMalformed = errors.New("redis: malformed reply")

// appendCommand encodes args as a RESP array of bulk strings.
func appendCommand(buf []byte, args ...string) []byte {
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')
	for _, a := range args {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(a)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, a...)
		buf = append(buf, '\r', '\n')
	}
	return buf
}

// readReply decodes one reply. Simple strings come back as string, integers
// as int64, bulk strings as []byte, arrays as []any and nil replies as nil.
// Error replies are returned as ServerError.
func readReply(r *bufio.Reader) (any, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 3 || !strings.HasSuffix(line, "\r\n") {
		return nil, errMalformed
	}
	kind, body := line[0], line[1:len(line)-2]

	switch kind {
	case '+':
		return body, nil
	case '-':
		return nil, ServerError(body)
	case ':':
		return strconv.ParseInt(body, 10, 64)
	case '$':
		n, err := strconv.Atoi(body)
		if err != nil {
			return nil, fmt.Errorf("redis: bulk length: %w", err)
		}
		if n < 0 {
			return nil, nil
		}
		data := make([]byte, n+2)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		if data[n] != '\r' || data[n+1] != '\n' {
			return nil, errMalformed
		}
		return data[:n], nil
	case '*':
		n, err := strconv.Atoi(body)
		if err != nil {
			return nil, fmt.Errorf("redis: array length: %w", err)
		}
		if n < 0 {
			return nil, nil
		}
		elems := make([]any, n)
		for i := range elems {
			v, err := readReply(r)
			var se ServerError
			if err != nil && !errors.As(err, &se) {
				return nil, err
			}
			if err != nil {
				v = se
			}
			elems[i] = v
		}
		return elems, nil
	default:
		return nil, fmt.Errorf("redis: unsupported reply type %q", kind)
	}
}

func isOK(v any, want string) bool {
	s, ok := v.(string)
	return ok && strings.EqualFold(s, want)
}

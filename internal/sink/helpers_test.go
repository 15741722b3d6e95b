package sink

import "context"

type lineWriterFunc func(lines []string) error

func (f lineWriterFunc) WriteLines(_ context.Context, lines []string) error {
	return f(lines)
}

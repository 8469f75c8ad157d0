package gcode

import (
	"fmt"
	"io"
	"strings"
)

// Parse reads every block of a program.
func Parse(program string) ([]Block, error) {
	return ReadAll(strings.NewReader(program))
}

// ReadAll reads and validates blocks from r until EOF.
func ReadAll(r io.Reader) ([]Block, error) {
	p := NewParser(r)
	var blocks []Block
	for {
		b, err := p.Read()
		if err == io.EOF {
			return blocks, nil
		}
		if err != nil {
			return nil, err
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", p.Line(), err)
		}
		blocks = append(blocks, b)
	}
}

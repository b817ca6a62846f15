package commands

import "io"

func readAllFrom(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

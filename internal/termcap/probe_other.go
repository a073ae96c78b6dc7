//go:build !unix && !windows

package termcap

import "golang.org/x/term"

func queryWidth(fd uintptr) (int, error) {
	width, _, err := term.GetSize(int(fd))
	if err != nil {
		return 0, err
	}
	return width, nil
}

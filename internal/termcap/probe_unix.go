//go:build unix

package termcap

import (
	"errors"

	"golang.org/x/sys/unix"
)

func queryWidth(fd uintptr) (int, error) {
	ws, err := unix.IoctlGetWinsize(int(fd), unix.TIOCGWINSZ)
	if err != nil {
		return 0, err
	}
	if ws.Col == 0 {
		return 0, errors.New("terminal reported zero columns")
	}
	return int(ws.Col), nil
}

//go:build windows

package termcap

import (
	"errors"

	"golang.org/x/sys/windows"
)

func queryWidth(fd uintptr) (int, error) {
	h := windows.Handle(fd)
	if h == windows.InvalidHandle {
		return 0, errors.New("invalid console handle")
	}
	var info windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(h, &info); err != nil {
		return 0, err
	}
	width := int(info.Window.Right-info.Window.Left) + 1
	if width <= 0 {
		return 0, errors.New("console reported zero columns")
	}
	return width, nil
}

package process

import "golang.org/x/term"

// setRawMode puts the terminal on fd into raw mode and returns a function
// restoring its previous state. It fails when fd is not a terminal.
func setRawMode(fd int) (func(), error) {
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() {
		_ = term.Restore(fd, oldState)
	}, nil
}

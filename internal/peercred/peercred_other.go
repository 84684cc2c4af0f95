//go:build !linux && !darwin

package peercred

func fromFD(int) (Credentials, error) {
	return Credentials{}, ErrUnsupported
}

func executablePath(int) (string, error) {
	return "", ErrUnsupported
}

//go:build linux

package input

func platformDefault() Injector {
	if x, err := newXdotool(); err == nil {
		return x
	}
	log.Info("xdotool unavailable, remote input will only be logged")
	return LogInjector{}
}

//go:build !linux

package input

func platformDefault() Injector {
	log.Info("no input backend for this platform, remote input will only be logged")
	return LogInjector{}
}

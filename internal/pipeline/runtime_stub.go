//go:build !govips || !cgo

package pipeline

func Startup() {}

func Shutdown() {}

func newCodec() Codec {
	return stdCodec{}
}

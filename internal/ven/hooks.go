package ven

import (
	"log/slog"

	"github.com/gridlink/vend/internal/oadr"
)

// Hooks are ordered listener sets for specific points in the
// request/response chain. Listeners observe; they cannot veto.
// A panicking listener is logged and the chain continues.
type Hooks struct {
	// BeforeSendXML sees the encoded payload just before it is sent.
	BeforeSendXML []func(xml []byte)
	// AfterReceiveXML sees the raw body immediately after receipt.
	AfterReceiveXML []func(xml []byte)
	// BeforeSchemaValidation sees the body before structural checks.
	BeforeSchemaValidation []func(xml []byte)
	// BeforeParseXML sees the validated body before decoding.
	BeforeParseXML []func(xml []byte)
	// AfterParseXML sees the decoded message.
	AfterParseXML []func(msg oadr.Message)
}

func runXMLHooks(name string, hooks []func([]byte), data []byte) {
	for _, h := range hooks {
		runHook(name, func() { h(data) })
	}
}

func runParsedHooks(name string, hooks []func(oadr.Message), msg oadr.Message) {
	for _, h := range hooks {
		runHook(name, func() { h(msg) })
	}
}

func runHook(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("hooks: listener panicked", "hook", name, "panic", rec)
		}
	}()
	fn()
}

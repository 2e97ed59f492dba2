// Package stt supervises streaming speech-to-text connections.
//
// Providers implement Dialer and Stream. A Guard wraps one Dialer for the
// lifetime of a session and adds ordering, stall detection, bounded
// reconnects, and a terminal degraded state:
//
//	guard := stt.NewGuard(deepgram.New(cfg), stt.DefaultGuardConfig())
//	if err := guard.Start(ctx); err != nil {
//	    // warn the client, keep the session running without live transcripts
//	}
//	defer guard.Close()
//
//	for ev := range guard.Events() {
//	    fmt.Println(ev.Text, ev.IsFinal)
//	}
package stt

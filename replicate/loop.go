package replicate

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/syndicate-storage/gateway/cmn"
	"github.com/syndicate-storage/gateway/cmn/debug"
	"github.com/syndicate-storage/gateway/cmn/nlog"
)

// defaultIdleTick is used only when a caller constructs a
// MultiTransferLoop directly with idleTick<=0; NewEngine always passes
// Config.Worker.IdleTick (spec §4.3, "select() ... default 10ms when
// none is given").
const defaultIdleTick = 10 * time.Millisecond

// legResult reports one RG leg finishing, successfully or not.
type legResult struct {
	h    Handle
	rgID string
	kind cmn.ErrKind
}

// MultiTransferLoop is the single worker goroutine that owns every
// active context's fan-out (spec §4.3, "MultiTransferLoop"). It is the
// Go rendering of the original's libcurl-multi + select() event loop:
// one goroutine, several channels standing in for the fd-sets, no
// context ever touched by two goroutines at once while active.
type MultiTransferLoop struct {
	ts       *TransferSet
	client   *http.Client
	ms       MSClient
	metrics  *Metrics
	smod     nlog.Smodule
	idleTick time.Duration

	legDone chan legResult
	stopCh  chan struct{}
	doneCh  chan struct{}

	ctxCancel map[Handle]map[string]context.CancelFunc // per-context, per-rg cancel funcs
}

func NewMultiTransferLoop(ts *TransferSet, client *http.Client, ms MSClient, metrics *Metrics, smod nlog.Smodule, idleTick time.Duration) *MultiTransferLoop {
	if client == nil {
		client = &http.Client{Timeout: 0} // per-request deadlines come from context, not the client
	}
	if idleTick <= 0 {
		idleTick = defaultIdleTick
	}
	return &MultiTransferLoop{
		ts:        ts,
		client:    client,
		ms:        ms,
		metrics:   metrics,
		smod:      smod,
		idleTick:  idleTick,
		legDone:   make(chan legResult, 64),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		ctxCancel: make(map[Handle]map[string]context.CancelFunc),
	}
}

// Run is the loop's body; callers start it with `go loop.Run()`.
func (l *MultiTransferLoop) Run() {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.idleTick)
	defer ticker.Stop()

	for {
		select {
		case <-l.ts.pendingSig:
			l.drivePending()
		case <-l.ts.cancelSig:
			l.driveCancels()
		case <-l.ts.abortSig:
			l.driveAborts()
		case res := <-l.legDone:
			l.reapLeg(res)
		case <-ticker.C:
			l.scanDeadlines()
		case <-l.stopCh:
			l.shutdown()
			return
		}
	}
}

// Stop signals the loop to tear down every active context and return;
// it blocks until Run has returned.
func (l *MultiTransferLoop) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

// drivePending moves every newly submitted context from pending to
// active, resolving its RG list and launching one goroutine per RG
// (spec §4.3 step "drain pending").
func (l *MultiTransferLoop) drivePending() {
	batch := l.ts.drainPending()
	for h, ctx := range batch {
		rgIDs, err := l.ms.ListRGIDs(context.Background(), ctx.Snapshot.VolumeID)
		if err != nil || len(rgIDs) == 0 {
			ctx.setErr(cmn.ErrNoReplicas)
			l.finish(h, ctx)
			continue
		}
		ctx.state = stateActive
		ctx.activeHandles = make(map[string]context.CancelFunc, len(rgIDs))
		l.ts.addActive(h, ctx)
		l.ctxCancel[h] = make(map[string]context.CancelFunc, len(rgIDs))
		if l.metrics != nil {
			l.metrics.Submitted.Inc()
		}
		for _, rgID := range rgIDs {
			l.launchLeg(h, ctx, rgID)
		}
	}
}

func (l *MultiTransferLoop) launchLeg(h Handle, ctx *Context, rgID string) {
	legCtx, cancel := context.WithCancel(context.Background())
	if !ctx.Deadline.IsZero() {
		legCtx, cancel = context.WithDeadline(legCtx, ctx.Deadline)
	}
	ctx.activeHandles[rgID] = cancel
	l.ctxCancel[h][rgID] = cancel
	if l.metrics != nil {
		l.metrics.Outstanding.Inc()
	}

	go func() {
		kind := l.doLeg(legCtx, ctx, rgID)
		l.legDone <- legResult{h: h, rgID: rgID, kind: kind}
	}()
}

// doLeg performs one RG's HTTP request (spec §4.1, §6): resolve the
// RG's content URL, POST or DELETE the prepared multipart body.
func (l *MultiTransferLoop) doLeg(ctx context.Context, rc *Context, rgID string) cmn.ErrKind {
	url, err := l.ms.RGContentURL(ctx, rgID)
	if err != nil {
		return cmn.ErrNotFound
	}
	req, err := http.NewRequestWithContext(ctx, rc.Op.String(), url, bytes.NewReader(rc.body))
	if err != nil {
		return cmn.ErrLocalIO
	}
	req.Header.Set("Content-Type", rc.contentType)

	resp, err := l.client.Do(req)
	if err != nil {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			return cmn.ErrTimeout
		case context.Canceled:
			return cmn.ErrCancelled
		default:
			return cmn.ErrTransport
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return cmn.ErrNone
	case resp.StatusCode == http.StatusNotFound:
		return cmn.ErrNotFound
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return cmn.ErrPermissionDenied
	default:
		return cmn.ErrRemoteIO
	}
}

// reapLeg folds one finished leg into its context and, once every leg
// has reported, finalizes the context (spec §4.3 step "reap
// completions", invariant I3: processing_lock released exactly once).
func (l *MultiTransferLoop) reapLeg(res legResult) {
	ctx, ok := l.ts.getActive(res.h)
	if !ok {
		return
	}
	if l.metrics != nil {
		l.metrics.Outstanding.Dec()
	}
	ctx.setErr(res.kind)
	delete(ctx.activeHandles, res.rgID)
	delete(l.ctxCancel[res.h], res.rgID)
	if len(ctx.activeHandles) == 0 {
		l.ts.removeActive(res.h)
		delete(l.ctxCancel, res.h)
		l.finish(res.h, ctx)
	}
}

// finish marks ctx done and releases processing_lock exactly once.
func (l *MultiTransferLoop) finish(h Handle, ctx *Context) {
	debug.Assert(len(ctx.activeHandles) == 0) // I3: every leg detached before release
	ctx.state = stateFinished
	if l.metrics != nil {
		switch ctx.err {
		case cmn.ErrCancelled:
			l.metrics.Cancelled.Inc()
		case cmn.ErrTimeout:
			l.metrics.TimedOut.Inc()
		default:
			l.metrics.Completed.Inc()
		}
	}
	if nlog.FastV(4, l.smod) {
		nlog.Infof("%s: context %s finished kind=%s op=%s err=%s", nlog.FormatHandle(uint64(h)), ctx.TraceID(), ctx.Kind, ctx.Op, ctx.err)
	}
	ctx.release()
	if ctx.FreeOnProcessed {
		// GC contexts are fire-and-forget: nothing waits on them, so
		// there is nothing further to do once the semaphore is posted.
		return
	}
}

// driveCancels is cancel_matching's worker-side half (spec §4.4):
// for each queued snapshot, pending matches are removed and failed
// outright (no legs are in flight yet), and active matches have every
// outstanding leg's context cancelled directly, since this already
// runs on the loop goroutine.
//
// A GC engine's own fire-and-forget DELETE (FreeOnProcessed) is never
// a match candidate here, even when its snapshot happens to equal the
// one just queued: Engine.GCManifest/GCBlocks queue a cancel for a
// snapshot and immediately submit their own DELETE with the identical
// snapshot to the same engine's TransferSet (spec §4.4), and Submit's
// pendingSig / RequestCancel's cancelSig race through the
// same select in Run with no ordering guarantee between them. Without
// this exclusion, a DELETE that the loop happens to promote to active
// before its own triggering cancel drains would self-match and cancel
// its own legs — preempting the very GC delete the caller just issued.
func (l *MultiTransferLoop) driveCancels() {
	snaps := l.ts.drainCancels()
	if len(snaps) == 0 {
		return
	}
	for _, snap := range snaps {
		l.ts.pendingMu.Lock()
		var removed []struct {
			h   Handle
			ctx *Context
		}
		for h, ctx := range l.ts.pending {
			if !ctx.FreeOnProcessed && ctx.Snapshot.Matches(snap) {
				removed = append(removed, struct {
					h   Handle
					ctx *Context
				}{h, ctx})
				delete(l.ts.pending, h)
			}
		}
		l.ts.pendingMu.Unlock()
		for _, r := range removed {
			r.ctx.setErr(cmn.ErrCancelled)
			l.finish(r.h, r.ctx)
		}

		l.ts.activeMu.Lock()
		var toAbort []Handle
		for h, ctx := range l.ts.active {
			if !ctx.FreeOnProcessed && ctx.Snapshot.Matches(snap) {
				toAbort = append(toAbort, h)
			}
		}
		l.ts.activeMu.Unlock()
		for _, h := range toAbort {
			ctx, ok := l.ts.getActive(h)
			if !ok {
				continue
			}
			ctx.setErr(cmn.ErrCancelled)
			for _, cancel := range l.ctxCancel[h] {
				cancel()
			}
		}
	}
}

// driveAborts tears down active contexts that RequestExpire marked for
// early teardown, either because a waiter's wait_and_free deadline
// elapsed or because scanDeadlines found the context past its own
// Deadline (spec §4.3 step "drain aborts"): every outstanding leg's
// context is cancelled, which unblocks doLeg and routes through the
// normal reapLeg path. Handles that are no longer active are skipped.
func (l *MultiTransferLoop) driveAborts() {
	batch := l.ts.drainAborts()
	for h, reason := range batch {
		ctx, ok := l.ts.getActive(h)
		if !ok {
			continue
		}
		kind := cmn.ErrCancelled
		if reason == abortExpired {
			kind = cmn.ErrTimeout
		}
		ctx.setErr(kind)
		for _, cancel := range l.ctxCancel[h] {
			cancel()
		}
	}
}

// scanDeadlines force-expires active contexts whose own Deadline (not
// a waiter's wait_and_free deadline — the context's fan-out deadline)
// has already passed, so a single unresponsive RG cannot pin a
// context's legs open forever.
func (l *MultiTransferLoop) scanDeadlines() {
	now := time.Now()
	l.ts.activeMu.Lock()
	var expired []Handle
	for h, ctx := range l.ts.active {
		if !ctx.Deadline.IsZero() && now.After(ctx.Deadline) {
			expired = append(expired, h)
		}
	}
	l.ts.activeMu.Unlock()
	for _, h := range expired {
		l.ts.RequestExpire(h)
	}
}

// shutdown cancels every outstanding leg and drains in-flight
// completions so Stop can return with no goroutine leaks (spec §8,
// "shutdown with in-flight transfers").
func (l *MultiTransferLoop) shutdown() {
	l.ts.activeMu.Lock()
	handles := make([]Handle, 0, len(l.ts.active))
	for h := range l.ts.active {
		handles = append(handles, h)
	}
	l.ts.activeMu.Unlock()

	remaining := 0
	for _, h := range handles {
		for _, cancel := range l.ctxCancel[h] {
			cancel()
			remaining++
		}
	}
	for remaining > 0 {
		res := <-l.legDone
		l.reapLeg(res)
		remaining--
	}

	for h, ctx := range l.ts.drainPending() {
		ctx.setErr(cmn.ErrCancelled)
		l.finish(h, ctx)
	}
}

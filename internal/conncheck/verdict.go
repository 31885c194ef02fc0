package conncheck

// Verdict is the lifecycle state of one connectivity stage.
//
// Allowed transitions: unknown → checking → success|failed. A new check
// cycle resets every stage to unknown first; bypass force-sets success from
// any state. There is no failed → checking shortcut.
type Verdict string

const (
	VerdictUnknown  Verdict = "unknown"
	VerdictChecking Verdict = "checking"
	VerdictSuccess  Verdict = "success"
	VerdictFailed   Verdict = "failed"
)

// Stage names the three reachability checks, ordered: later stages are
// meaningless unless the earlier ones succeeded.
type Stage string

const (
	StageInternet Stage = "internet"
	StageAPI      Stage = "api"
	StageAccount  Stage = "account"
)

// Failure classifies a finished check cycle for notification purposes.
// Remediation differs per class: internet_down and upstream_unreachable are
// network problems; authentication_failure means the API key or its
// permissions are wrong even though the network is fine.
type Failure string

const (
	FailureNone                Failure = "none"
	FailureInternetDown        Failure = "internet_down"
	FailureUpstreamUnreachable Failure = "upstream_unreachable"
	FailureAuthentication      Failure = "authentication_failure"
)

// ClassifyFailure reduces a settled stage record to its dominant failure.
// Account failure only counts when the stages below it succeeded; with no
// credentials the account stage stays unknown and classifies as none.
func ClassifyFailure(snap Snapshot) Failure {
	switch {
	case snap.Internet == VerdictFailed:
		return FailureInternetDown
	case snap.API == VerdictFailed:
		return FailureUpstreamUnreachable
	case snap.Account == VerdictFailed:
		return FailureAuthentication
	default:
		return FailureNone
	}
}

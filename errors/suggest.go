package errors

// Suggestion returns operator guidance for an error, keyed off the kind and
// the remote exit code when one is present. Empty when there is nothing
// useful to say.
func Suggestion(err error) string {
	var ee *ExecError
	if !As(err, &ee) {
		return ""
	}

	switch ee.Kind {
	case KindNonZeroExit:
		if code, ok := ee.Details["exit_code"].(int); ok {
			switch code {
			case 126:
				return "command found but not executable; check permissions"
			case 127:
				return "command not found; try `which <cmd>` on the target"
			}
		}
	case KindHostKey:
		return "host key changed or unknown; verify the host and update known_hosts"
	case KindAuth:
		return "check the configured key, agent, or password for the target"
	case KindConnect:
		return "verify the host is reachable and the port is open"
	case KindUnavailable:
		return "verify the daemon/cluster is running and the endpoint is configured"
	case KindTimeout:
		return "raise the command or target timeout if the operation is expected to be slow"
	}
	return ""
}

package cmdexec

import (
	"strings"

	secerr "sandboxexec/errors"
)

// perCommandArgChecks holds the extra argument-level restrictions applied
// on top of the general whitelist/blocked-pattern checks, for commands
// whose argument surface can itself spawn arbitrary processes or reach
// the network.
var perCommandArgChecks = map[string]func([]string) error{
	"git":    checkGitArgs,
	"npm":    checkNpmArgs,
	"node":   checkNodeArgs,
	"python": checkPythonArgs,
	"python3": checkPythonArgs,
	"find":   checkFindArgs,
}

func checkGitArgs(args []string) error {
	denied := []string{"--upload-pack", "--receive-pack", "--exec", "-c"}
	for _, a := range args {
		for _, d := range denied {
			if a == d || strings.HasPrefix(a, d+"=") {
				return secerr.ErrArgumentDenied.WithDetail("argument", a)
			}
		}
		if strings.HasPrefix(a, "ext::") || strings.Contains(a, "://") && !strings.HasPrefix(a, "https://") && !strings.HasPrefix(a, "http://") {
			return secerr.ErrArgumentDenied.WithDetail("argument", a)
		}
	}
	return nil
}

func checkNpmArgs(args []string) error {
	denied := []string{"--script-shell", "install-script", "--ignore-scripts=false"}
	for _, a := range args {
		for _, d := range denied {
			if strings.HasPrefix(a, d) {
				return secerr.ErrArgumentDenied.WithDetail("argument", a)
			}
		}
	}
	for i, a := range args {
		if a == "run" && i+1 < len(args) {
			switch args[i+1] {
			case "preinstall", "postinstall", "preuninstall", "postuninstall":
				return secerr.ErrArgumentDenied.WithDetail("argument", args[i+1])
			}
		}
	}
	return nil
}

func checkNodeArgs(args []string) error {
	denied := []string{"-e", "--eval", "-p", "--print", "--require", "-r"}
	for _, a := range args {
		for _, d := range denied {
			if a == d {
				return secerr.ErrArgumentDenied.WithDetail("argument", a)
			}
		}
	}
	return nil
}

func checkPythonArgs(args []string) error {
	denied := []string{"-c", "-m"}
	for _, a := range args {
		for _, d := range denied {
			if a == d {
				return secerr.ErrArgumentDenied.WithDetail("argument", a)
			}
		}
	}
	return nil
}

func checkFindArgs(args []string) error {
	denied := []string{"-exec", "-execdir", "-ok", "-okdir", "-delete", "-fprintf"}
	for _, a := range args {
		for _, d := range denied {
			if a == d {
				return secerr.ErrArgumentDenied.WithDetail("argument", a)
			}
		}
	}
	return nil
}

// validateArguments runs the command's argument-specific checks, if any
// are registered, plus the general per-token security.Validate check.
func validateArguments(command string, args []string) error {
	for _, a := range args {
		if err := validateToken(a); err != nil {
			return err
		}
	}
	if check, ok := perCommandArgChecks[command]; ok {
		return check(args)
	}
	return nil
}

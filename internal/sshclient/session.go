package sshclient

import (
	"context"
	"strings"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/types"
)

// Session runs one shell command on a remote host. stdin, when not empty,
// is written to the command's input right after it starts.
type Session interface {
	Run(ctx context.Context, cmd string, stdin string) (status int, stdout, stderr string, err error)
}

// Result is the aggregated outcome of a prepared command.
type Result struct {
	Status   int
	Response string
	Error    string
}

const sudoPasswordMissing = "sudo password was not provided"

// Execute runs every command of p on s in order, writing the sudo password
// to stdin in password mode. Output is concatenated and the status is
// aggregated with AggregateStatus. A transport failure aborts with an
// EXECUTION_ERROR.
func Execute(ctx context.Context, s Session, p Prepared, password string) (Result, error) {
	var stdin string
	if p.Sudo == types.SudoPassword {
		if password == "" {
			return Result{Status: types.StatusSudoPasswordMissing, Error: sudoPasswordMissing}, nil
		}
		stdin = password + "\n"
	}

	statuses := make([]int, 0, len(p.Commands))
	var response, errOut strings.Builder
	for _, cmd := range p.Commands {
		st, out, serr, err := s.Run(ctx, cmd, stdin)
		if err != nil {
			return Result{}, apperrors.ExecutionError(err)
		}
		statuses = append(statuses, st)
		response.WriteString(out)
		errOut.WriteString(serr)
	}
	return Result{
		Status:   AggregateStatus(statuses),
		Response: response.String(),
		Error:    errOut.String(),
	}, nil
}

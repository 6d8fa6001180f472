package zygiskdcmd

import (
	"errors"

	"github.com/zygisksu/zygiskd/internal/exitcode"
)

// asExitError unwraps err looking for an *exitcode.Error, returning its
// code so Execute can set the process exit status precisely instead of
// collapsing every failure to a bare 1.
func asExitError(err error) (int, bool) {
	var coded *exitcode.Error
	if errors.As(err, &coded) {
		return coded.Code, true
	}
	return 0, false
}

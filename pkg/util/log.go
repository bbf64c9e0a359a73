package util

import (
	"fmt"

	"k8s.io/klog/v2"
)

// LogFatalAndExit logs err with a formatted message and exits the process.
func LogFatalAndExit(err error, format string, a ...interface{}) {
	klog.ErrorS(err, fmt.Sprintf(format, a...))
	klog.FlushAndExit(klog.ExitFlushTimeout, 1)
}

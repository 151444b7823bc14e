// Package nlog is a thin leveled-logging facade over glog, giving the
// rest of the gateway a single place to control verbosity and format.
/*
 * Copyright (c) 2024, Syndicate Storage Project. All rights reserved.
 */
package nlog

import (
	"fmt"

	"github.com/golang/glog"
)

// Smodule names the subsystem a FastV check is made for. FastV does
// not consult it: every subsystem shares glog's single verbosity level.
type Smodule int

const (
	SmoduleReplicate Smodule = iota
	SmoduleGC
	SmoduleTransferSet
)

func Infoln(args ...interface{})            { glog.Infoln(args...) }
func Infof(format string, args ...any)      { glog.Infof(format, args...) }
func Warningln(args ...interface{})         { glog.Warningln(args...) }
func Warningf(format string, args ...any)   { glog.Warningf(format, args...) }
func Errorln(args ...interface{})           { glog.Errorln(args...) }
func Errorf(format string, args ...any)     { glog.Errorf(format, args...) }

// FastV reports whether logging at the given verbosity level is
// currently enabled by glog's global -v setting (the Smodule argument
// is ignored); callers gate expensive log-line construction behind it.
func FastV(level int, _ Smodule) bool {
	return bool(glog.V(glog.Level(level)))
}

func FormatHandle(h uint64) string {
	return fmt.Sprintf("h%016x", h)
}

package configs

import (
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// TxnPrint logs a debug line tagged with the transaction identifier.
func TxnPrint(tid string, format string, a ...interface{}) {
	if ShowDebugInfo {
		logrus.WithField("txn", tid).Debugf(format, a...)
	}
}

func DPrintf(format string, a ...interface{}) {
	if ShowDebugInfo {
		logrus.Debugf(format, a...)
	}
}

// Critical emits the post-decision inconsistency diagnostic for operator
// follow-up. The record is structured so reconciliation tooling can key on
// txn and account.
func Critical(tid string, account string, format string, a ...interface{}) {
	logrus.WithFields(logrus.Fields{
		"severity": "critical",
		"txn":      tid,
		"account":  account,
	}).Errorf(format, a...)
}

func JToString(v interface{}) string {
	byt, _ := json.Marshal(v)
	return string(byt)
}

func Assert(cond bool, msg string) bool {
	if !cond {
		panic("[ERROR] Assert error at " + msg + "\n")
	}
	return cond
}

func Warn(cond bool, msg string) bool {
	if ShowWarnings && !cond {
		logrus.Warn(msg)
	}
	return cond
}

func CheckError(err error) {
	if err != nil {
		panic(err.Error())
	}
}

func SetDebug(on bool) {
	ShowDebugInfo = on
	ShowWarnings = on
	if on {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

package vm

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("scumm.vm")

const levelDebug = commonlog.Debug

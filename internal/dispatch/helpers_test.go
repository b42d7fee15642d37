package dispatch

import "statusbot/pkg/logx"

func nilLogger() logx.Logger { return logx.Nop() }

// Copyright (C) 2019-2024 Algorand, Inc.
// This file is part of go-algorand
//
// go-algorand is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-algorand is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-algorand.  If not, see <https://www.gnu.org/licenses/>.

package p2p

import (
	p2plogging "github.com/ipfs/go-log/v2"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap/zapcore"

	"github.com/algorand/go-meshnet/logging"
)

var levelsMap = map[zapcore.Level]logging.Level{
	zapcore.DebugLevel:  logging.Debug,
	zapcore.InfoLevel:   logging.Info,
	zapcore.WarnLevel:   logging.Warn,
	zapcore.ErrorLevel:  logging.Error,
	zapcore.DPanicLevel: logging.Error,
	zapcore.PanicLevel:  logging.Error,
	zapcore.FatalLevel:  logging.Error,
}

// loggingCore is a zapcore.Core writing into a node logger. Panic and fatal
// entries of the libp2p libraries are downgraded so they cannot stop the node.
type loggingCore struct {
	log    logging.Logger
	fields []zapcore.Field
	zapcore.Core
}

// EnableP2PLogging routes the logs of the libp2p libraries at level l and above into log.
func EnableP2PLogging(log logging.Logger, l logging.Level) {
	p2pLevel := zapcore.ErrorLevel
	for _, z := range []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel} {
		if levelsMap[z] == l {
			p2pLevel = z
			break
		}
	}
	p2plogging.SetAllLoggers(p2plogging.LogLevel(p2pLevel))
	p2plogging.SetPrimaryCore(&loggingCore{log: log})
}

func (c *loggingCore) Enabled(l zapcore.Level) bool {
	lvl, ok := levelsMap[l]
	return ok && c.log.IsLevelEnabled(lvl)
}

func (c *loggingCore) With(fields []zapcore.Field) zapcore.Core {
	return &loggingCore{
		log:    c.log,
		fields: append(append([]zapcore.Field(nil), c.fields...), fields...),
	}
}

func (c *loggingCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *loggingCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	event := c.log.WithFields(enc.Fields).With("libp2p", e.LoggerName)
	if e.Caller.Defined {
		event = event.WithFields(logging.Fields{
			"file": e.Caller.File,
			"line": e.Caller.Line,
		})
	}
	event.Entry().Log(logrus.Level(levelsMap[e.Level]), e.Message)
	return nil
}

func (c *loggingCore) Sync() error {
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/fansqz/trace-debugger/config"
	"github.com/sirupsen/logrus"
)

var logFile *os.File

func SetupLogger(conf config.LogConfig) error {
	level := logrus.InfoLevel
	if conf.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(conf.Level); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if conf.File == "" {
		logrus.SetOutput(os.Stderr)
		return nil
	}

	file, err := os.OpenFile(conf.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	logFile = file
	logrus.SetOutput(logFile)
	return nil
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

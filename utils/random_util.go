package utils

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func GetUUID() string {
	u1, err := uuid.NewUUID()
	if err != nil {
		// 时钟序列获取失败时退回随机uuid
		logrus.Warnf("[GetUUID] NewUUID fail, err = %v", err)
		return uuid.NewString()
	}
	return u1.String()
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chenxilol/echohub/configs"
	"github.com/chenxilol/echohub/internal/utils"
	"github.com/chenxilol/echohub/pkg/bus"
	busnats "github.com/chenxilol/echohub/pkg/bus/nats"
	"github.com/chenxilol/echohub/pkg/bus/noop"
	busredis "github.com/chenxilol/echohub/pkg/bus/redis"
)

// createPublisher 根据配置创建转发使用的总线，连接失败时按退避重试
func createPublisher(ctx context.Context, rc configs.Relay, backoff utils.Backoff) (bus.Publisher, error) {
	busType := strings.ToLower(rc.BusType)
	if !rc.Enabled || busType == "" || busType == configs.BusNoop {
		slog.Info("relay uses noop bus", "enabled", rc.Enabled)
		return noop.New(), nil
	}

	var pub bus.Publisher
	err := utils.Retry(ctx, "connect "+busType+" bus", backoff, func(context.Context) error {
		var err error
		switch busType {
		case configs.BusNATS:
			pub, err = busnats.New(rc.NATS)
		case configs.BusRedis:
			pub, err = busredis.New(rc.Redis)
		default:
			return fmt.Errorf("%w: %s", configs.ErrUnknownBusType, rc.BusType)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("relay bus connected", "type", busType)
	return pub, nil
}

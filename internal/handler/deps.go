package handler

import (
	"textroom/internal/app/collab"
	"textroom/internal/app/protocol"
	"textroom/internal/configs"
)

type AppDeps struct {
	Coordinator *collab.Coordinator
	Adapter     *protocol.Adapter
	Config      *configs.AppConfig
}

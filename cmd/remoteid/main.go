package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardupilot/remoteid-module/internal/adapters/can"
	"github.com/ardupilot/remoteid-module/internal/adapters/serial"
	"github.com/ardupilot/remoteid-module/internal/backends/ble"
	"github.com/ardupilot/remoteid-module/internal/backends/wifi"
	"github.com/ardupilot/remoteid-module/internal/config"
	"github.com/ardupilot/remoteid-module/internal/core"
	"github.com/ardupilot/remoteid-module/internal/core/armhistory"
	"github.com/ardupilot/remoteid-module/internal/core/logger"
	"github.com/ardupilot/remoteid-module/internal/diag"
	"github.com/ardupilot/remoteid-module/internal/models"
	"github.com/ardupilot/remoteid-module/internal/odidwire/astm"
	"github.com/ardupilot/remoteid-module/internal/params"
	"github.com/ardupilot/remoteid-module/internal/publishers/mqtt"
	"github.com/ardupilot/remoteid-module/internal/security"
)

const version = "0.1.0-dev"

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	fmt.Printf("ArduPilot Remote ID Module v%s\n", version)
	fmt.Println("ASTM F3411 transponder: DroneCAN/MAVLink in, BLE/Wi-Fi/MQTT out")
	fmt.Println()

	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config from %s: %v", configPath, err)
	}
	log.Printf("configuration loaded from %s", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Parameter Store (C9). Persistence is an external collaborator per
	// spec.md's scope boundary; a nil KVStore keeps parameters in-memory,
	// seeded from their compiled-in defaults.
	paramStore := params.New(nil)
	paramStore.LockLevel = *cfg.Security.LockLevel
	if cfg.Security.ForceArmOK {
		paramStore.Options |= params.OptionForceArmOK
	}
	for i, encoded := range cfg.Security.PublicKeys {
		if i >= params.MaxPublicKeys {
			log.Printf("[security] ignoring public key %d: only %d slots available", i, params.MaxPublicKeys)
			break
		}
		if err := paramStore.SetByNameString(fmt.Sprintf("PUBLIC_KEY%d", i), encoded); err != nil {
			log.Printf("[security] failed to install public key %d: %v", i, err)
		}
	}

	var deviceID [8]byte
	copy(deviceID[:], cfg.Serial.Address)
	dispatcher := security.NewDispatcher(paramStore, deviceID)

	engine := core.NewEngine(paramStore.ForceArmOK)

	if cfg.Serial.Enabled {
		serialLink := serial.New(cfg.Serial, paramStore, dispatcher)
		engine.RegisterLink(serialLink)
		log.Printf("serial link registered (%s: %s)", cfg.Serial.ConnectionType, cfg.Serial.Address)
	}

	if cfg.CAN.Enabled {
		canLink := can.New(cfg.CAN, paramStore, dispatcher)
		engine.RegisterLink(canLink)
		log.Printf("can link registered (interface: %s)", cfg.CAN.Interface)
	}

	// BLE (C7) and Wi-Fi (C8) backends need a platform Driver that owns
	// real BLE-GAP/802.11 PHY control; that control surface is out of
	// scope for this module (spec.md section 1). The logDriver below
	// satisfies both Driver interfaces by logging the frames a real
	// radio would have transmitted, so the TX scheduler (C6) always has
	// backends to drive; a platform integration swaps it out for one
	// backed by a real BLE/Wi-Fi stack.
	encoder := astm.Codec{}
	drv := logDriver{}
	engine.RegisterBackend(ble.New(drv, encoder), cfg.Transmit.BLE4RateHz)
	engine.RegisterBackend(wifi.New(drv, encoder, wifi.Config{
		RateHz: cfg.Transmit.WiFiNANRate,
	}), cfg.Transmit.WiFiNANRate)
	log.Printf("ble/wifi backends registered (ble4 rate: %.1fHz, wifi nan rate: %.1fHz)",
		cfg.Transmit.BLE4RateHz, cfg.Transmit.WiFiNANRate)

	if cfg.MQTT.Enabled {
		mqttPublisher := mqtt.New(cfg.MQTT)
		engine.RegisterPublisher(mqttPublisher)
		log.Printf("mqtt publisher registered (broker: %s)", cfg.MQTT.Broker)
	}

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}

	var diagServer *diag.Server
	if cfg.HTTP.Enabled {
		diagServer = diag.New(cfg.HTTP, engine, paramStore, version, cfg.Server.LogBufferSize)
		if err := diagServer.Start(ctx); err != nil {
			log.Fatalf("failed to start diagnostics server: %v", err)
		}
		logger.SetupGlobalLogger(diagServer.GetLogBuffer(), os.Stdout)

		engine.SetArmChangeCallback(func(status models.ArmStatus, reason string) {
			diagServer.BroadcastArmStatus(armhistory.Event{
				Timestamp: time.Now().UnixMilli(),
				Status:    uint8(status),
				Reason:    reason,
			})
		})
		log.Printf("diagnostics server started (address: %s, websocket: /api/v1/ws)", cfg.HTTP.Address)
	}

	log.Println("module is running. press ctrl+c to stop.")
	fmt.Println()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	fmt.Println()
	log.Printf("received signal %v, shutting down...", sig)

	cancel()

	if diagServer != nil {
		if err := diagServer.Stop(); err != nil {
			log.Printf("error stopping diagnostics server: %v", err)
		}
	}

	if err := engine.Stop(); err != nil {
		log.Printf("error during shutdown: %v", err)
	}

	log.Println("shutdown complete")
}

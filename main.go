package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"gowhisper/config"
	"gowhisper/crypto"
	"gowhisper/discovery"
	"gowhisper/event"
	"gowhisper/ingest"
	"gowhisper/storage"
	"gowhisper/transport"
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	_, publicKey, err := crypto.EnsureIdentityKeyPair(cfg.Ed25519PrivateKeyPath, cfg.Ed25519PublicKeyPath)
	if err != nil {
		log.Fatalf("startup failed while preparing identity keypair: %v", err)
	}

	channelSecret, err := crypto.EnsureChannelSecret(cfg.ChannelSecretPath)
	if err != nil {
		log.Fatalf("startup failed while preparing channel secret: %v", err)
	}

	fingerprint := crypto.KeyFingerprint(publicKey)
	if cfg.KeyFingerprint != fingerprint {
		cfg.KeyFingerprint = fingerprint
		if err := config.Save(cfgPath, cfg); err != nil {
			log.Fatalf("startup failed while persisting key fingerprint: %v", err)
		}
	}

	fmt.Printf("Device ID:       %s\n", cfg.DeviceID)
	fmt.Printf("Device Name:     %s\n", cfg.DeviceName)
	fmt.Printf("Fingerprint:     %s\n", crypto.FormatFingerprint(cfg.KeyFingerprint))
	fmt.Printf("Config File:     %s\n", cfgPath)
	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	channelKey, err := crypto.DeriveChannelKey(channelSecret, cfg.DeviceID)
	if err != nil {
		log.Fatalf("startup failed while deriving channel key: %v", err)
	}

	cipher, err := crypto.NewMessageCipher(channelKey, channelSecret, crypto.NewIdentityRegistry())
	if err != nil {
		log.Fatalf("startup failed while building message cipher: %v", err)
	}

	events := event.NewEmitter()
	events.On(ingest.EventMessage, func(_ string, payload any) {
		message, ok := payload.(*storage.Message)
		if !ok {
			return
		}
		log.Printf("message: id=%s conversation=%s source=%s errors=%d",
			message.MessageID, message.ConversationID, message.Source, len(message.Errors))
	})
	events.On(ingest.EventError, func(_ string, payload any) {
		log.Printf("pipeline error: %v", payload)
	})

	dispatcher, err := ingest.NewDispatcher(ingest.Options{
		Store:     store,
		Decryptor: cipher,
		Events:    events,
	})
	if err != nil {
		log.Fatalf("startup failed while building dispatcher: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relayAddress := cfg.RelayAddress
	if cfg.RelayMode == config.RelayModeDiscover {
		relay, err := discovery.LocateRelay(ctx, discovery.Config{})
		if err != nil {
			if relayAddress == "" {
				log.Fatalf("startup failed while locating relay: %v", err)
			}
			log.Printf("relay discovery failed, using configured address: %v", err)
		} else {
			relayAddress = relay.Address
		}
	}
	fmt.Printf("Relay Address:   %s\n", relayAddress)

	channel, err := transport.Dial(relayAddress, transport.ChannelOptions{AutoRespondPing: true})
	if err != nil {
		log.Fatalf("startup failed while connecting to relay: %v", err)
	}
	defer channel.Close()

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	if err := dispatcher.Run(ctx, channel); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("pipeline stopped: %v", err)
	}
	fmt.Println("Status:          shutting down")
}

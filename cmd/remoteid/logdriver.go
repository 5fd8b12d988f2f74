package main

import "log"

// logDriver is the default BLE/Wi-Fi Driver wired in when no platform
// radio stack is configured: it logs the frames a real driver would
// have transmitted instead of silently dropping C7/C8's output, so the
// TX scheduler's northbound half is always exercised end to end.
type logDriver struct{}

func (logDriver) SetMAC(mac [6]byte) error {
	log.Printf("[ble] mac set to %x", mac)
	return nil
}

func (logDriver) SetAdvertisingData(instance int, data []byte) error {
	log.Printf("[ble] advertising data set on instance %d (%d bytes)", instance, len(data))
	return nil
}

func (logDriver) SetScanResponse(instance int, data []byte) error {
	log.Printf("[ble] scan response set on instance %d (%d bytes)", instance, len(data))
	return nil
}

func (logDriver) Start() error {
	log.Printf("[ble] advertising started")
	return nil
}

func (logDriver) ConfigureSoftAP(mac [6]byte, channel int) error {
	log.Printf("[wifi] soft-ap configured, mac=%x channel=%d", mac, channel)
	return nil
}

func (logDriver) TX80211(frame []byte) error {
	log.Printf("[wifi] 802.11 frame transmitted (%d bytes)", len(frame))
	return nil
}

func (logDriver) SetVendorIE(frameType string, ie []byte) error {
	log.Printf("[wifi] vendor ie set on %s (%d bytes)", frameType, len(ie))
	return nil
}

package domain

import (
	"encoding/json"
	"fmt"
)

const (
	TypeBarcode        = "barcode"
	TypeMappingRequest = "mapping_request"
	TypePing           = "ping"

	TypeConnected  = "connected"
	TypeStatus     = "status"
	TypeScanResult = "scan_result"
	TypeError      = "error"
)

// Frame is one decoded inbound message. The concrete type is one of
// BarcodeFrame, MappingRequestFrame, PingFrame or UnknownFrame.
type Frame interface {
	frameType() string
}

type BarcodeFrame struct {
	Code string
}

type MappingRequestFrame struct {
	Barcode string
}

type PingFrame struct{}

type UnknownFrame struct {
	Type string
}

func (BarcodeFrame) frameType() string        { return TypeBarcode }
func (MappingRequestFrame) frameType() string { return TypeMappingRequest }
func (PingFrame) frameType() string           { return TypePing }
func (f UnknownFrame) frameType() string      { return f.Type }

type inboundFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Barcode string `json:"barcode"`
}

func DecodeFrame(data []byte) (Frame, error) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch in.Type {
	case TypeBarcode:
		if in.Code == "" {
			return nil, fmt.Errorf("%w: barcode frame without code", ErrMalformedFrame)
		}
		return BarcodeFrame{Code: in.Code}, nil
	case TypeMappingRequest:
		if in.Barcode == "" {
			return nil, fmt.Errorf("%w: mapping_request frame without barcode", ErrMalformedFrame)
		}
		return MappingRequestFrame{Barcode: in.Barcode}, nil
	case TypePing:
		return PingFrame{}, nil
	default:
		return UnknownFrame{Type: in.Type}, nil
	}
}

type ConnectedMessage struct {
	Type             string `json:"type"`
	ClientID         string `json:"clientId"`
	ScannerConnected bool   `json:"scannerConnected"`
}

type StatusMessage struct {
	Type             string `json:"type"`
	ScannerConnected bool   `json:"scannerConnected"`
}

type BarcodeEvent struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Timestamp int64  `json:"timestamp"`
}

type ScanResult struct {
	Type       string `json:"type"`
	Barcode    string `json:"barcode"`
	Found      bool   `json:"found"`
	SourceType string `json:"source_type,omitempty"`
	SourceID   string `json:"source_id,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewConnected(clientID string, scannerConnected bool) ConnectedMessage {
	return ConnectedMessage{Type: TypeConnected, ClientID: clientID, ScannerConnected: scannerConnected}
}

func NewStatus(scannerConnected bool) StatusMessage {
	return StatusMessage{Type: TypeStatus, ScannerConnected: scannerConnected}
}

func NewBarcodeEvent(code string, timestamp int64) BarcodeEvent {
	return BarcodeEvent{Type: TypeBarcode, Code: code, Timestamp: timestamp}
}

func NewScanResult(barcode string, r Resolution) ScanResult {
	return ScanResult{
		Type:       TypeScanResult,
		Barcode:    barcode,
		Found:      r.Found,
		SourceType: r.SourceType,
		SourceID:   r.SourceID,
	}
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

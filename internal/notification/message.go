package notification

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Message kinds, also used as the metrics "type" label
const (
	KindContractDetected  = "contract_detected"
	KindContractConfirmed = "contract_confirmed"
	KindDirect            = "direct"
)

// Message is a formatted chat message
type Message struct {
	Kind      string
	Text      string
	ParseMode string
}

// ContractDetectedMessage announces a matching deploy seen in the mempool
func ContractDetectedMessage(contractID, txID, trackURL string) Message {
	return Message{
		Kind: KindContractDetected,
		Text: fmt.Sprintf("🚨 *New Smart Contract Detected!* 🚨\n\n"+
			"🔗 Contract ID: %s\n"+
			"🆔 Transaction ID: %s\n"+
			"🔍 [Track Transaction](%s)",
			escape(contractID), escape(txID), trackURL),
		ParseMode: tgbotapi.ModeMarkdown,
	}
}

// ContractConfirmedMessage announces that a tracked deploy reached success
func ContractConfirmedMessage(contractID, txID, trackURL string) Message {
	return Message{
		Kind: KindContractConfirmed,
		Text: fmt.Sprintf("✅ *Transaction Confirmed!* ✅\n\n"+
			"🔗 Contract ID: %s\n"+
			"🆔 Transaction ID: %s\n"+
			"🎉 Status: *Success*\n"+
			"🔍 [Track Transaction](%s)",
			escape(contractID), escape(txID), trackURL),
		ParseMode: tgbotapi.ModeMarkdown,
	}
}

// TextMessage is an unformatted reply
func TextMessage(text string) Message {
	return Message{Kind: KindDirect, Text: text}
}

// HTMLMessage is a reply using the HTML parse mode
func HTMLMessage(text string) Message {
	return Message{Kind: KindDirect, Text: text, ParseMode: tgbotapi.ModeHTML}
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

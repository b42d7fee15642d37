package telegram

import (
	tele "gopkg.in/telebot.v4"

	kit "statusbot/internal/transport"
)

// Callback data is capped by Telegram at 64 bytes.
const maxCallbackData = 64

// inlineMarkup turns platform-neutral rows into a telebot inline keyboard.
// Buttons carry raw data (no unique prefix) so every press lands on OnCallback.
func inlineMarkup(rows [][]kit.Button) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	trows := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		row := make(tele.Row, 0, len(r))
		for _, b := range r {
			data := b.Data
			if len(data) > maxCallbackData {
				data = data[:maxCallbackData]
			}
			row = append(row, tele.Btn{Text: b.Text, Data: data})
		}
		if len(row) > 0 {
			trows = append(trows, row)
		}
	}
	rm.Inline(trows...)
	return rm
}

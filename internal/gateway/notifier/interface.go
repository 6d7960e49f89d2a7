package notifier

// TextNotifier is the minimal surface components depend on, so they
// never import the concrete Telegram client.
type TextNotifier interface {
	SendText(text string) error
}


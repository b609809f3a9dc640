//go:build !darwin

package notify

// NewDesktopSender returns nil; desktop notifications need osascript.
func NewDesktopSender() Sender {
	return nil
}

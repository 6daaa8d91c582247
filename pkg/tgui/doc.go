// Package tgui contains small helpers for building Telegram UI payloads:
// HTML-safe text, inline keyboards, and callback data packing.
package tgui

package ui

// iconBytes holds the tray icon image. Packaged builds inject a real icon;
// an empty slice falls back to the title-only tray entry.
var iconBytes []byte

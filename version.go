package chatrelay

const Version = "v0.1.0"

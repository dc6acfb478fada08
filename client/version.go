package client

// Version is the build version of the querykit client.
const Version = "0.4.0"

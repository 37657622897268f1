// Package logx provides structured logging for adflow on top of zerolog.
//
// Components hold a Logger value, not a *Service. Loggers created from the
// Service stay live across config reloads: Service.Apply() atomically swaps
// the root logger underneath them.
package logx

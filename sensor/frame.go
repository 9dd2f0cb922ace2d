package sensor

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	headerSize = 4
)

var (
	maxFrameSize = flag.Int("sensor.max_frame_size", 64*1024, "车辆数消息的最大字节数")

	ErrFrameTooLarge = errors.New("frame too large")
	ErrEmptyFrame    = errors.New("empty frame")
)

// CountFrame 从机推送的一条车辆数消息
type CountFrame struct {
	Lane  string `msgpack:"lane"`
	Count int    `msgpack:"count"`
}

// WriteFrame 写入一条消息
// 功能：4字节大端长度 + msgpack消息体，在一次Write中写出
func WriteFrame(w io.Writer, f CountFrame) error {
	body, err := msgpack.Marshal(&f)
	if err != nil {
		return err
	}
	if len(body) > *maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[headerSize:], body)
	_, err = w.Write(buf)
	return err
}

// ReadFrame 读取一条消息
// 返回：连接正常关闭时返回io.EOF；长度为0或超过-sensor.max_frame_size时返回错误，此后连接不可再用
func ReadFrame(r io.Reader) (CountFrame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return CountFrame{}, err
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length == 0 {
		return CountFrame{}, ErrEmptyFrame
	}
	if int64(length) > int64(*maxFrameSize) {
		return CountFrame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return CountFrame{}, fmt.Errorf("read frame body: %w", err)
	}
	var f CountFrame
	if err := msgpack.Unmarshal(body, &f); err != nil {
		return CountFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

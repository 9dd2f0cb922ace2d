package sensor

import (
	"context"
	"net"
	"sync"
	"time"
)

const (
	dialTimeout = 3 * time.Second
)

// Sender 从机车辆数发送端
// 功能：按需建立到监听端的连接并发送消息，连接断开后下一次发送时重连
type Sender struct {
	addr string

	mtx  sync.Mutex
	conn net.Conn
}

// NewSender 创建发送端，不立即建立连接
func NewSender(addr string) *Sender {
	return &Sender{addr: addr}
}

// Send 发送一条车辆数
// 说明：已有连接写入失败时重连并重试一次
func (s *Sender) Send(ctx context.Context, lane string, count int) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	f := CountFrame{Lane: lane, Count: count}
	if s.conn != nil {
		if err := WriteFrame(s.conn, f); err == nil {
			return nil
		} else {
			log.Warnf("send to %s failed, reconnect: %v", s.addr, err)
			s.conn.Close()
			s.conn = nil
		}
	}
	if err := s.dial(ctx); err != nil {
		return err
	}
	if err := WriteFrame(s.conn, f); err != nil {
		s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// Close 关闭连接
func (s *Sender) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Sender) dial(ctx context.Context) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}
